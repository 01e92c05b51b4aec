package configuration

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/suite"
)

type localConfiguration struct {
	Version       Version   `yaml:"version"`
	Log           *localLog `yaml:"log"`
	Notifications []notif   `yaml:"notifications,omitempty"`
}

type localLog struct {
	Formatter string `yaml:"formatter,omitempty"`
}

type notif struct {
	Name string `yaml:"name"`
}

var expectedConfig = localConfiguration{
	Version: "0.1",
	Log: &localLog{
		Formatter: "json",
	},
	Notifications: []notif{
		{Name: "foo"},
		{Name: "bar"},
		{Name: "car"},
	},
}

const testConfig = `version: "0.1"
log:
  formatter: "text"
notifications:
  - name: "foo"
  - name: "bar"
  - name: "car"`

type ParserSuite struct {
	suite.Suite
}

func TestParserSuite(t *testing.T) {
	suite.Run(t, new(ParserSuite))
}

func newLocalParser(config localConfiguration) *Parser {
	return NewParser("registry", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(config),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	})
}

func (suite *ParserSuite) TestParserOverwriteIninitializedPoiner() {
	config := localConfiguration{}

	suite.T().Setenv("REGISTRY_LOG_FORMATTER", "json")

	err := newLocalParser(config).Parse([]byte(testConfig), &config)
	suite.Require().NoError(err)
	suite.Require().Equal(expectedConfig, config)
}

const testConfig2 = `version: "0.1"
log:
  formatter: "text"
notifications:
  - name: "val1"
  - name: "val2"
  - name: "car"`

func (suite *ParserSuite) TestParseOverwriteUnininitializedPoiner() {
	config := localConfiguration{}

	suite.T().Setenv("REGISTRY_LOG_FORMATTER", "json")

	// override only first two notificationsvalues
	// in the tetConfig: leave the last value unchanged.
	suite.T().Setenv("REGISTRY_NOTIFICATIONS_0_NAME", "foo")
	suite.T().Setenv("REGISTRY_NOTIFICATIONS_1_NAME", "bar")

	err := newLocalParser(config).Parse([]byte(testConfig2), &config)
	suite.Require().NoError(err)
	suite.Require().Equal(expectedConfig, config)
}

func (suite *ParserSuite) TestParseUnsupportedVersion() {
	config := localConfiguration{}

	err := newLocalParser(config).Parse([]byte(`version: "0.2"`), &config)
	suite.Require().Error(err)
}

func (suite *ParserSuite) TestParseMalformedVersion() {
	config := localConfiguration{}

	err := newLocalParser(config).Parse([]byte(`version: "1"`), &config)
	suite.Require().Error(err)
}

// Package metrics declares the prometheus namespaces the registry reports
// under. Packages add their own timers and counters to them; Register
// publishes the namespaces once at server start, after every package has
// declared its metrics.
package metrics

import (
	"sync"

	"github.com/docker/go-metrics"
)

// NamespacePrefix is the namespace of prometheus metrics.
const NamespacePrefix = "registry"

var (
	// StorageNamespace covers storage driver actions and the blob
	// descriptor cache.
	StorageNamespace = metrics.NewNamespace(NamespacePrefix, "storage", nil)

	// UploadNamespace covers upload sessions.
	UploadNamespace = metrics.NewNamespace(NamespacePrefix, "upload", nil)

	// NotificationsNamespace covers event delivery to endpoints.
	NotificationsNamespace = metrics.NewNamespace(NamespacePrefix, "notifications", nil)
)

var registerOnce sync.Once

// Register adds the namespaces above to the default prometheus registry.
// Calls after the first are no-ops.
func Register() {
	registerOnce.Do(func() {
		metrics.Register(StorageNamespace)
		metrics.Register(UploadNamespace)
		metrics.Register(NotificationsNamespace)
	})
}

// Package provider links the storage backends selected by build tags into a
// binary. With no tags every backend is linked.
package provider

import (
	"slices"

	"github.com/apigw/quotacounter/storage"
)

// DefaultStorageSystem is the storage provider used when none is configured.
var DefaultStorageSystem string

func init() {
	defaultProvider := "mysql"
	providers := slices.DeleteFunc(storage.Providers(), func(p string) bool { return p == "memory" })
	if len(providers) == 0 {
		defaultProvider = "memory"
	} else if !slices.Contains(providers, defaultProvider) {
		slices.Sort(providers)
		defaultProvider = providers[0]
	}
	DefaultStorageSystem = defaultProvider
}

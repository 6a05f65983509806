//go:build sqlite || !(mysql || crdb || postgresql || etcd || redis || cloudspanner)

package provider

import (
	_ "github.com/apigw/quotacounter/storage/sqlite"
)

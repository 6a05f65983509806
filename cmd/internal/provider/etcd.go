//go:build etcd || !(mysql || crdb || postgresql || sqlite || redis || cloudspanner)

package provider

import (
	_ "github.com/apigw/quotacounter/storage/etcd"
)

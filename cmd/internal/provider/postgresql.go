//go:build postgresql || !(mysql || crdb || sqlite || etcd || redis || cloudspanner)

package provider

import (
	_ "github.com/apigw/quotacounter/storage/postgresql"
)

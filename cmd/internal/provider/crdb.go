//go:build crdb || !(mysql || postgresql || sqlite || etcd || redis || cloudspanner)

package provider

import (
	_ "github.com/apigw/quotacounter/storage/crdb"
)

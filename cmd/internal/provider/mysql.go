//go:build mysql || !(crdb || postgresql || sqlite || etcd || redis || cloudspanner)

package provider

import (
	_ "github.com/apigw/quotacounter/storage/mysql"
)

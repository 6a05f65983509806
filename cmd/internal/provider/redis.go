//go:build redis || !(mysql || crdb || postgresql || sqlite || etcd || cloudspanner)

package provider

import (
	_ "github.com/apigw/quotacounter/storage/redis"
)

//go:build cloudspanner || !(mysql || crdb || postgresql || sqlite || etcd || redis)

package provider

import (
	_ "github.com/apigw/quotacounter/storage/cloudspanner"
)

package provider

import (
	_ "github.com/apigw/quotacounter/storage/memory"
)

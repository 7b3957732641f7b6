package httpapi

import _ "embed"

//go:embed assets/gate.html
var gatePage []byte

//go:embed assets/day.html
var dayPage []byte

//go:embed assets/success.html
var successPage []byte

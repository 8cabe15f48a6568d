// main.go
package main

import (
	"github.com/jsj9346/makenaide-sub002/cmd"
)

func main() {
	cmd.Execute()
}

package main

import (
	"fmt"

	"github.com/readcache/readcache/internal/version"
)

func versionString() string {
	return version.Full()
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, versionString())
}

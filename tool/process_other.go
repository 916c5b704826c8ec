//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package tool

import "os/exec"

func configureProcessGroup(*exec.Cmd) {}

func killProcessGroup(int) {}

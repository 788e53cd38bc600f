//go:build windows && 386

package driver

const toomossDLLDir = ".\\DLLs\\windows_x86\\"

package platform

import (
	"os/exec"
	"runtime"
)

// OpenBrowser points the user's default browser at url. Failures are
// ignored; the dashboard URL is printed at startup regardless.
func OpenBrowser(url string) {
	switch runtime.GOOS {
	case "darwin":
		exec.Command("open", url).Start()
	case "windows":
		exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		exec.Command("xdg-open", url).Start()
	}
}

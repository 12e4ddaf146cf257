package imageio

import (
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
)

// Viewer displays a saved image.
type Viewer interface {
	Show(path string) error
}

// SystemViewer opens files with the desktop's default application. It does not
// wait for the viewer to exit.
type SystemViewer struct{}

// Show launches the platform opener for path.
func (SystemViewer) Show(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to open viewer for %s", path)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

package mail

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// systemOpener launches the platform's URL handler, which routes mailto
// URLs to the default mail client.
type systemOpener struct{}

func (systemOpener) Open(ctx context.Context, mailtoURL string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", mailtoURL)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", mailtoURL)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", mailtoURL)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("open mailto url: %w", err)
	}
	return nil
}

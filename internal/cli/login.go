package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"intraday-trader/internal/broker"
	"intraday-trader/pkg/utils"
)

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to Zerodha Kite Connect",
		Long: `Login to Zerodha Kite Connect via the browser OAuth flow.

A browser window opens for authentication; paste the request_token from
the redirect URL back into the prompt. The session is saved to disk and
is valid until 6 AM IST the next day.`,
		Example: `  trader login
  trader login --token=<token>  # Complete login with token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			zb, ok := app.Broker.(*broker.ZerodhaBroker)
			if !ok || zb == nil {
				output.Error("Login requires the Zerodha broker. Check credentials.toml and trading mode")
				return fmt.Errorf("zerodha broker not configured")
			}

			if zb.IsAuthenticated() {
				output.Success("✓ Already logged in")
				showSessionExpiry(output)
				return nil
			}

			token, _ := cmd.Flags().GetString("token")
			if token != "" {
				return completeLogin(ctx, zb, output, token)
			}

			err := zb.Login(ctx)
			if err == nil {
				output.Success("✓ Already logged in")
				return nil
			}

			loginURL, ok := extractLoginURL(err.Error())
			if !ok {
				output.Error("Login failed: %v", err)
				return err
			}

			output.Info("Opening Zerodha login page...")
			output.Println()
			output.Bold("Login URL:")
			output.Println(loginURL)
			output.Println()

			if err := openURL(loginURL); err != nil {
				output.Warning("Could not open browser automatically")
			}

			output.Info("After logging in, you'll be redirected to a URL like:")
			output.Dim("  https://your-redirect-url.com/?request_token=XXXXXX&status=success")
			output.Println()
			output.Bold("Paste the request_token value here:")

			reader := bufio.NewReader(os.Stdin)
			fmt.Print("> ")
			inputToken, _ := reader.ReadString('\n')
			inputToken = strings.TrimSpace(inputToken)
			if inputToken == "" {
				output.Error("No token provided")
				return fmt.Errorf("no token provided")
			}

			return completeLogin(ctx, zb, output, inputToken)
		},
	}

	cmd.Flags().String("token", "", "Request token from redirect URL")

	return cmd
}

func completeLogin(ctx context.Context, zb *broker.ZerodhaBroker, output *Output, token string) error {
	output.Info("Completing login with token...")
	if err := zb.CompleteLogin(ctx, token); err != nil {
		output.Error("Login failed: %v", err)
		return err
	}
	output.Success("✓ Login successful!")
	showSessionExpiry(output)
	return nil
}

func showSessionExpiry(output *Output) {
	now := time.Now().In(utils.IndiaLocation)
	expiry := time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, utils.IndiaLocation)
	if now.Hour() < 6 {
		expiry = time.Date(now.Year(), now.Month(), now.Day(), 6, 0, 0, 0, utils.IndiaLocation)
	}
	output.Printf("  Session expires: %s (%s remaining)\n",
		expiry.Format("02 Jan 15:04"),
		formatDuration(expiry.Sub(now)))
}

func extractLoginURL(errMsg string) (string, bool) {
	if !strings.Contains(errMsg, "please visit") {
		return "", false
	}
	urlStart := strings.Index(errMsg, "https://")
	urlEnd := strings.Index(errMsg, " and complete")
	if urlStart == -1 || urlEnd == -1 || urlEnd <= urlStart {
		return "", false
	}
	return errMsg[urlStart:urlEnd], true
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}

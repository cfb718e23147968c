package cmd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"gifmill/internal/storage"
)

var driveAuthCmd = &cobra.Command{
	Use:   "drive-auth",
	Short: "Obtain a Google Drive refresh token for the artifact mirror",
	Long: `Start a loopback callback, print the consent URL and exchange the returned
code for a refresh token. Put the token in GDRIVE_REFRESH_TOKEN.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := cfg.Storage
		if sc.GDriveClientID == "" || sc.GDriveClientSecret == "" {
			return errors.New("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required")
		}
		wait, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return err
		}

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
		defer ln.Close()

		redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
		conf := storage.DriveOAuthConfig(sc.GDriveClientID, sc.GDriveClientSecret, redirectURL)
		state := randomState()

		codeCh := make(chan string, 1)
		errCh := make(chan error, 1)
		srv := &http.Server{
			Handler:      callbackHandler(state, codeCh, errCh),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() { _ = srv.Serve(ln) }()
		defer srv.Close()

		authURL := conf.AuthCodeURL(state,
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		)
		cmd.Println("Open this URL in your browser:")
		cmd.Println()
		cmd.Println(authURL)
		cmd.Println()
		cmd.Println("Waiting for authorization on", redirectURL)

		var code string
		select {
		case code = <-codeCh:
		case err := <-errCh:
			return err
		case <-time.After(wait):
			return errors.New("timed out waiting for authorization")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		tok, err := conf.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("exchange code: %w", err)
		}
		// Google omits the refresh token when the app was already authorized.
		if strings.TrimSpace(tok.RefreshToken) == "" {
			return errors.New("no refresh_token returned; revoke the app at https://myaccount.google.com/permissions and retry")
		}
		cmd.Println("GDRIVE_REFRESH_TOKEN=" + tok.RefreshToken)
		return nil
	},
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var err error
		switch {
		case q.Get("state") != state:
			err = errors.New("invalid state")
		case q.Get("error") != "":
			err = fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			err = errors.New("missing code")
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			select {
			case errCh <- err:
			default:
			}
			return
		}
		fmt.Fprintln(w, "OK. You can close this window and return to the terminal.")
		select {
		case codeCh <- q.Get("code"):
		default:
		}
	})
	return mux
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func init() {
	driveAuthCmd.Flags().Duration("timeout", 3*time.Minute, "how long to wait for the browser callback")
	rootCmd.AddCommand(driveAuthCmd)
}

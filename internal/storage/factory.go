package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"gifmill/internal/adapters/storage/gdrive"
	"gifmill/internal/adapters/storage/localfs"
	"gifmill/internal/config"
)

// NewProvider builds the artifact mirror selected by cfg.Storage.Provider.
// localfs is rooted at the upload folder.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.Storage.Provider {
	case "", "localfs":
		return localfs.New(cfg.UploadRoot()), nil
	case "gdrive":
		return newGDriveProvider(ctx, cfg.Storage)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

// DriveOAuthConfig is shared with `gifctl drive-auth`, which mints the
// refresh token this provider needs.
func DriveOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

func newGDriveProvider(ctx context.Context, sc config.StorageConfig) (Provider, error) {
	if sc.GDriveClientID == "" || sc.GDriveClientSecret == "" || sc.GDriveRefreshToken == "" {
		return nil, fmt.Errorf("gdrive storage needs GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN")
	}

	conf := DriveOAuthConfig(sc.GDriveClientID, sc.GDriveClientSecret, "")
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: sc.GDriveRefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	return gdrive.NewClient(srv, sc.GDriveFolderID), nil
}

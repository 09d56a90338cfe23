package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	"github.com/sightline/authkit"
)

var (
	flagBaseURL string
	flagStorage string
	flagSQLite  string
	flagRegion  string
	flagDebug   bool
)

func main() {
	root := &cobra.Command{
		Use:   "authctl",
		Short: "Session tooling for the dashboard backend",
		Long:  "authctl exercises the authkit session core against a live backend: sign in, inspect the session, rotate and drop tokens.",
	}

	root.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "backend base URL (default: AUTHKIT_BASE_URL)")
	root.PersistentFlags().StringVar(&flagStorage, "storage", "", "state file path (default: AUTHKIT_STORAGE_PATH)")
	root.PersistentFlags().StringVar(&flagSQLite, "sqlite", "", "use a sqlite state database at this DSN instead of the state file")
	root.PersistentFlags().StringVar(&flagRegion, "region", "", "phone number region (default: AUTHKIT_PHONE_REGION)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "dump payloads")

	root.AddCommand(loginCmd(), whoamiCmd(), refreshCmd(), logoutCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, authkit.HumanMessage(err))
		os.Exit(1)
	}
}

type env struct {
	cfg       authkit.Config
	store     *authkit.TokenStore
	refresher *authkit.RefreshCoordinator
	api       *authkit.API
	cleanup   func()
}

func setup() (*env, error) {
	cfg, err := authkit.LoadConfig()
	if err != nil {
		if flagBaseURL == "" {
			return nil, err
		}
		cfg = authkit.Config{
			PhoneRegion: authkit.DefaultPhoneRegion,
			StoragePath: ".authkit/state.json",
			TokenKey:    authkit.DefaultTokenKey,
		}
	}
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}
	if flagStorage != "" {
		cfg.StoragePath = flagStorage
	}
	if flagRegion != "" {
		cfg.PhoneRegion = flagRegion
	}

	var storage authkit.Storage
	cleanup := func() {}

	if flagSQLite != "" {
		db, err := authkit.OpenBunDatabase(flagSQLite)
		if err != nil {
			return nil, err
		}
		bunStorage, err := authkit.NewBunStorage(context.Background(), db)
		if err != nil {
			db.Close()
			return nil, err
		}
		storage = bunStorage
		cleanup = func() { db.Close() }
	} else {
		storage = authkit.NewFileStorage(cfg.StoragePath)
	}

	store := authkit.NewTokenStore(storage, authkit.WithTokenKey(cfg.TokenKey))
	refresher := authkit.NewRefreshCoordinator(cfg.BaseURL, store)
	client := authkit.NewClient(cfg.BaseURL, store, refresher)
	api := authkit.NewAPI(client, store, authkit.WithPhoneRegion(cfg.PhoneRegion))

	return &env{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		api:       api,
		cleanup: func() {
			store.Close()
			cleanup()
		},
	}, nil
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Interactive sign-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.cleanup()

			ctx := cmd.Context()
			in := bufio.NewReader(os.Stdin)

			var result *authkit.AuthResult
			flow := authkit.NewLoginFlow(e.api,
				authkit.WithCompletionHandler(func(res *authkit.AuthResult) {
					result = res
				}),
			)

			phone := prompt(in, "Phone number: ")
			if err := flow.SubmitIdentifier(ctx, phone); err != nil {
				return err
			}

			for !flow.Completed() {
				if msg := flow.Err(); msg != "" {
					fmt.Println(msg)
				}

				switch state := flow.State().(type) {
				case authkit.PasswordState:
					answer := prompt(in, "Password (or 'code' to sign in with a code): ")
					if strings.EqualFold(answer, "code") {
						if err := flow.LoginWithCode(ctx); err != nil && flow.Err() == "" {
							return err
						}
						continue
					}
					if err := flow.SubmitPassword(ctx, answer); err != nil && flow.Err() == "" {
						return err
					}
				case authkit.OTPState:
					if state.DevCode != "" {
						fmt.Printf("(dev code: %s)\n", state.DevCode)
					}
					code := prompt(in, "Verification code: ")
					if err := flow.VerifyCode(ctx, code); err != nil && flow.Err() == "" {
						return err
					}
				case authkit.OTPResetState:
					if state.DevCode != "" {
						fmt.Printf("(dev code: %s)\n", state.DevCode)
					}
					code := prompt(in, "Reset code: ")
					password := prompt(in, "New password: ")
					if err := flow.SubmitReset(ctx, code, password); err != nil && flow.Err() == "" {
						return err
					}
				case authkit.CompleteRegistrationState:
					first := prompt(in, "First name: ")
					last := prompt(in, "Last name: ")
					password := prompt(in, "Password: ")
					if err := flow.CompleteRegistration(ctx, first, last, password); err != nil && flow.Err() == "" {
						return err
					}
				}
			}

			if result != nil && result.User != nil {
				fmt.Printf("Signed in as %s %s (%d)\n", result.User.FirstName, result.User.LastName, result.User.ID)
			} else {
				fmt.Println("Signed in.")
			}

			if flagDebug && result != nil {
				fmt.Println(print.MaybePrettyJSON(result.User))
			}
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.cleanup()

			pair := e.store.Get()
			if pair == nil {
				fmt.Println("Not signed in.")
				return nil
			}

			claims := authkit.DecodeAccessClaims(pair.AccessToken)
			if claims == nil {
				fmt.Println("Stored token does not decode; run 'authctl logout'.")
				return nil
			}

			fmt.Printf("User:    %d\n", claims.UserID())
			fmt.Printf("Roles:   %s\n", strings.Join(claims.Roles, ", "))
			if exp := claims.Expires(); !exp.IsZero() {
				fmt.Printf("Expires: %s\n", exp.Local())
			}
			for _, orgID := range claims.OrganizationIDs() {
				fmt.Printf("Org %d:  %s\n", orgID, strings.Join(claims.RolesForOrg(orgID), ", "))
			}

			if flagDebug {
				fmt.Println(print.MaybePrettyJSON(claims))
			}
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the stored token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.cleanup()

			if e.refresher.EnsureRefreshed(cmd.Context()) {
				fmt.Println("Tokens rotated.")
				return nil
			}
			fmt.Println("Refresh failed; session cleared.")
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.cleanup()

			if err := e.store.Clear(); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/TacoContent/tacobot/tacobot"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set admin credentials",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.Mongo == nil || cfg.Mongo.URI == "" {
			log.Fatal(
				"Environment variable TACOBOT_MONGO_URI not set (must be a " +
					"valid mongodb connection URI)",
			)
		}

		store, err := tacobot.NewMongoStore(
			ctx,
			cfg.Mongo,
			tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelWarn}),
		)
		if err != nil {
			log.Fatalf("Error connecting to database: %v", err)
		}
		defer func() {
			_ = store.Close(ctx)
		}()

		out := cmd.OutOrStdout()

		creds, err := store.AdminCredentials(ctx)
		if err != nil && !errors.Is(err, tacobot.ErrNotFound) {
			log.Fatalf("Error retrieving admin credentials: %v", err)
		}
		if creds != nil && creds.Username != "" && creds.Password != "" {
			fmt.Fprintln(out, "Admin credentials are already set.")
			fmt.Fprintln(
				out,
				"Initialization complete. You can now start the bot with the 'run' subcommand.",
			)
			return
		}

		fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")

		reader := bufio.NewReader(os.Stdin)

		// Prompt for username
		fmt.Fprint(out, "Enter admin username: ")
		username, _ := reader.ReadString('\n')
		username = strings.TrimSpace(username)

		// Prompt for password
		var password string

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}
		for {
			fmt.Fprint(out, "Enter admin password: ")
			passwordBytes, _ := customPasswordReader()
			password = string(passwordBytes)
			fmt.Fprintln(out)

			fmt.Fprint(out, "Confirm admin password: ")
			confirmPasswordBytes, _ := customPasswordReader()
			confirmPassword := string(confirmPasswordBytes)
			fmt.Fprintln(out)

			if password == confirmPassword {
				break
			}
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		}

		hashedPassword, err := tacobot.HashPassword(password)
		if err != nil {
			log.Fatalf("Error hashing password: %v", err)
		}

		if err = store.SetAdminCredentials(ctx, username, hashedPassword); err != nil {
			log.Fatalf("Error updating admin credentials: %v", err)
		}

		fmt.Fprintln(out, "Admin credentials set successfully.")
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

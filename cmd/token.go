package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/skillpay-gateway/internal/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Operator credential helpers",
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for security.operator_password_hash",
	Long:  `Hash the given password, or the first line of stdin when no argument is given`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := ""
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		hash, err := auth.HashPassword(password, bcryptCost(hashCost))
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

var issueTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator access token signed with security.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := bootstrap()
		if err != nil {
			return err
		}
		if cfg.Security.JWTSecret == "" {
			return fmt.Errorf("security.jwt_secret is not configured")
		}

		username := tokenUsername
		if username == "" {
			username = cfg.Security.OperatorUsername
		}

		tokenGen := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration)
		token, expiresAt, err := tokenGen.GenerateAccessToken(username)
		if err != nil {
			return err
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var (
	hashCost      int
	tokenUsername string
)

// bcryptCost returns the requested cost or the library default.
func bcryptCost(cost int) int {
	if cost <= 0 {
		return bcrypt.DefaultCost
	}
	return cost
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashCost, "cost", 0, "bcrypt cost (defaults to the library default)")
	issueTokenCmd.Flags().StringVar(&tokenUsername, "username", "", "token subject (defaults to security.operator_username)")

	authCmd.AddCommand(hashPasswordCmd)
	authCmd.AddCommand(issueTokenCmd)
}

//go:build !race

package auth

import "golang.org/x/crypto/bcrypt"

func magicTokenHashCost() int {
	return bcrypt.DefaultCost
}

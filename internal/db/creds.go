// SPDX-License-Identifier: MIT

package db

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Credentials are the database credentials read from a my.cnf style file.
type Credentials struct {
	User     string
	Password string
}

// ReadCredentials parses the [client] section of a my.cnf style file, the
// same file the mysql client reads (user and password keys; anything else in
// the file is ignored).
func ReadCredentials(path string) (Credentials, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("cannot read the credentials file: %w", err)
	}
	section := f.Section("client")
	creds := Credentials{
		User:     section.Key("user").String(),
		Password: section.Key("password").String(),
	}
	if creds.User == "" {
		return Credentials{}, fmt.Errorf("credentials file %s has no user in its [client] section", path)
	}
	return creds, nil
}

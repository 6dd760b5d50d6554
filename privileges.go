package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// getOriginalUser gets the user who invoked sudo
func getOriginalUser() (*user.User, error) {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return nil, fmt.Errorf("SUDO_USER environment variable not found")
	}
	return user.Lookup(sudoUser)
}

// handOutputsToInvoker chowns files written by a sudo-launched agent back
// to the invoking user. Paths that do not exist yet are skipped.
func handOutputsToInvoker(paths ...string) {
	if len(paths) == 0 || os.Geteuid() != 0 {
		return
	}
	u, err := getOriginalUser()
	if err != nil {
		return
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		log.WithError(err).Warn("Invalid uid for invoking user")
		return
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		log.WithError(err).Warn("Invalid gid for invoking user")
		return
	}

	for _, path := range paths {
		if err := os.Chown(path, uid, gid); err != nil && !os.IsNotExist(err) {
			log.WithField("file", path).WithError(err).Warn("Could not hand output to invoking user")
		}
	}
}

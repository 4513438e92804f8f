/*
Copyright © 2023 the wrfcf authors.
This file is part of wrfcf.

wrfcf is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

wrfcf is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with wrfcf.  If not, see <http://www.gnu.org/licenses/>.
*/

package wrfcf

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// fetchRemote downloads a remote dataset to a temporary file and returns the
// local path. Only http and https URIs are handled; paths with any other
// remote scheme are rejected.
func fetchRemote(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("wrfcf: parsing remote path %s: %v", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("wrfcf: cannot open remote path %s: scheme %s is not supported", rawURL, u.Scheme)
	}

	dir, err := os.MkdirTemp("", "wrfcf")
	if err != nil {
		return "", fmt.Errorf("wrfcf: creating temporary download directory: %v", err)
	}
	local := filepath.Join(dir, path.Base(u.Path))

	err = backoff.RetryNotify(
		func() error {
			return downloadHTTP(rawURL, local)
		},
		backoff.NewExponentialBackOff(),
		func(err error, d time.Duration) {
			logrus.Warnf("wrfcf: %v: retrying in %v", err, d)
		},
	)
	if err != nil {
		return "", err
	}
	return local, nil
}

func downloadHTTP(url, local string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("wrfcf: downloading %s: %s", url, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors will not heal on retry.
			return backoff.Permanent(err)
		}
		return err
	}
	w, err := os.Create(local)
	if err != nil {
		return backoff.Permanent(err)
	}
	defer w.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

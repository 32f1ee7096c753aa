package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/textproto"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"
)

// Reply code for a missing remote file.
const ftpFileUnavailable = 550

// FTPFetcher mirrors per-gauge observed files from an FTP server into a
// GaugeSource directory.
type FTPFetcher struct {
	Host     string // host:port
	User     string
	Password string
	Dir      string // remote directory holding <gauge>.csv
	Dest     GaugeSource

	Timeout        time.Duration
	MaxElapsedTime time.Duration
}

// NewFTPFetcher returns a fetcher with anonymous login and the default
// timeouts.
func NewFTPFetcher(host, dir string, dest GaugeSource) *FTPFetcher {
	return &FTPFetcher{
		Host:           host,
		User:           "anonymous",
		Password:       "anonymous",
		Dir:            dir,
		Dest:           dest,
		Timeout:        30 * time.Second,
		MaxElapsedTime: 2 * time.Minute,
	}
}

// FetchResult counts the outcome of a Fetch.
type FetchResult struct {
	Fetched int
	Missing []string
}

// Fetch downloads every gauge file. A gauge the server does not have is
// recorded in Missing; any other failure that survives the retries stops the
// fetch.
func (f *FTPFetcher) Fetch(ctx context.Context, gaugeIDs []string) (FetchResult, error) {
	var res FetchResult
	if f.Host == "" {
		return res, errors.New("ftp: no host configured")
	}
	for _, id := range gaugeIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := f.fetchOne(ctx, id)
		if errors.Is(err, ErrGaugeNotFound) {
			log.Printf("ftp: gauge %s not on server", id)
			res.Missing = append(res.Missing, id)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("gauge %s: %w", id, err)
		}
		res.Fetched++
	}
	return res, nil
}

func (f *FTPFetcher) fetchOne(ctx context.Context, gaugeID string) error {
	remote := path.Join(f.Dir, gaugeID+".csv")

	operation := func() error {
		conn, err := ftp.Dial(f.Host, ftp.DialWithTimeout(f.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return fmt.Errorf("ftp dial: %w", err)
		}
		defer conn.Quit()

		if err := conn.Login(f.User, f.Password); err != nil {
			return backoff.Permanent(fmt.Errorf("ftp login: %w", err))
		}

		resp, err := conn.Retr(remote)
		if err != nil {
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) && tpErr.Code == ftpFileUnavailable {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrGaugeNotFound, remote))
			}
			return fmt.Errorf("ftp retr: %w", err)
		}
		defer resp.Close()

		return WriteFileAtomic(f.Dest.Path(gaugeID), func(w io.Writer) error {
			_, err := io.Copy(w, resp)
			return err
		})
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.MaxElapsedTime
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

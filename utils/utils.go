package utils

import (
	"crypto/rand"
	"log"
	"math"
	"math/big"
	"os"
	"time"

	"github.com/parnurzeal/gorequest"
	"golang.org/x/xerrors"
)

// FetchURL returns the response body of a single GET request. The request is
// bounded by timeout and the body must not exceed sizeLimit bytes.
func FetchURL(url string, timeout time.Duration, sizeLimit int64) ([]byte, error) {
	req := gorequest.New().Timeout(timeout).Get(url)
	resp, body, errs := req.Type("text").EndBytes()
	if len(errs) > 0 {
		return nil, xerrors.Errorf("HTTP error. url: %s, err: %w", url, errs[0])
	}
	if resp.StatusCode != 200 {
		return nil, xerrors.Errorf("HTTP error. status code: %d, url: %s", resp.StatusCode, url)
	}
	if sizeLimit > 0 && int64(len(body)) > sizeLimit {
		return nil, xerrors.Errorf("response body exceeds %d bytes. url: %s", sizeLimit, url)
	}
	return body, nil
}

// FetchURLWithRetry retries FetchURL with quadratic backoff.
func FetchURLWithRetry(url string, timeout time.Duration, sizeLimit int64, retry int) (res []byte, err error) {
	for i := 0; i <= retry; i++ {
		if i > 0 {
			wait := math.Pow(float64(i), 2) + float64(randInt()%10)
			log.Printf("retry after %f seconds\n", wait)
			time.Sleep(time.Duration(wait) * time.Second)
		}
		res, err = FetchURL(url, timeout, sizeLimit)
		if err == nil {
			return res, nil
		}
	}
	return nil, xerrors.Errorf("failed to fetch URL: %w", err)
}

func randInt() int {
	seed, _ := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	return int(seed.Int64())
}

func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

func LookupEnv(key, defaultValue string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultValue
}

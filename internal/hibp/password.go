package hibp

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// PasswordCount reports how often a password appears in known breaches,
// using the k-anonymity range API: only the first five hex characters of
// the SHA-1 digest leave the process. Padding is requested so the response
// size does not leak the match count either.
func (c *Client) PasswordCount(ctx context.Context, password string) (int64, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	resp, err := c.get(ctx, c.passwordsURL+"/range/"+prefix, http.Header{"Add-Padding": {"true"}})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		sfx, count, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok || !strings.EqualFold(sfx, suffix) {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(count), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("hibp: parsing count for range %s: %w", prefix, err)
		}
		return n, nil
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("hibp: reading range %s: %w", prefix, err)
	}
	return 0, nil
}

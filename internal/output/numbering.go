package output

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/policy-crawler/internal/storage"
)

// counter hands out sequential numbers for files under a blob prefix,
// continuing after the highest "<digits>_" name already stored there.
type counter struct {
	store  storage.BlobStore
	prefix string
	ext    string

	mu     sync.Mutex
	loaded bool
	last   int
}

func newCounter(store storage.BlobStore, prefix, ext string) *counter {
	return &counter{store: store, prefix: prefix, ext: ext}
}

// next returns the number the following file should use. It does not
// reserve it; call commit once the file is written.
func (c *counter) next(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		paths, err := c.store.List(ctx, c.prefix+"/")
		if err != nil {
			return 0, fmt.Errorf("list %s: %w", c.prefix, err)
		}
		c.last = highestNumber(paths, c.ext)
		c.loaded = true
	}
	return c.last + 1, nil
}

func (c *counter) commit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.last {
		c.last = n
	}
}

// highestNumber returns the largest numeric name prefix among paths whose
// extension matches ext ("" accepts any).
func highestNumber(paths []string, ext string) int {
	highest := 0
	for _, p := range paths {
		base := path.Base(p)
		if ext != "" && !strings.HasSuffix(base, ext) {
			continue
		}
		head, _, ok := strings.Cut(base, "_")
		if !ok || head == "" || strings.Trim(head, "0123456789") != "" {
			continue
		}
		n, err := strconv.Atoi(head)
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return highest
}

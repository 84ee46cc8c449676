package importer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
)

const maxLineSize = 1 << 20

// Pair associates a discount with a variation.
type Pair struct {
	DiscountID  string
	VariationID string
}

// errMalformed marks a line that is not a complete pair object.
var errMalformed = errors.New("malformed line")

// decodePair parses {"discount_id":"...","variation_id":"..."}. Unknown
// fields are ignored.
func decodePair(line []byte) (Pair, error) {
	var p Pair
	d := jx.DecodeBytes(line)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "discount_id":
			v, err := d.Str()
			p.DiscountID = v
			return err
		case "variation_id":
			v, err := d.Str()
			p.VariationID = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return Pair{}, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if p.DiscountID == "" || p.VariationID == "" {
		return Pair{}, errMalformed
	}
	return p, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-empty
// line. The slice passed to fn is only valid until fn returns.
func streamGzFile(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(line)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

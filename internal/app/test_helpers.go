package app

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
)

// testSeedYAML содержит один заказ на вынос: бургер 2 x 600 = 1200.
const testSeedYAML = `orders:
  - id: order-42
    client_name: Awa
    order_type: takeaway
    items:
      - product_id: burger
        name: Burger
        qty: 2
        price_minor: 600
`

// writeTestFile кладёт содержимое во временный файл и возвращает путь.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// quietLogger возвращает логгер, который ничего не пишет.
func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

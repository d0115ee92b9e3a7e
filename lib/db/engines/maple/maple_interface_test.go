package maple

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dDB/lib/db"
	dbtesting "github.com/ValentinKolb/dDB/lib/db/testing"
)

func Test(t *testing.T) {
	for _, shards := range []int{0, 1, 16} {
		dbtesting.RunKVDBTests(t, fmt.Sprintf("MapleDB/shards=%d", shards), func() db.KVDB {
			return NewMapleDB(&DBOptions{NumShards: shards})
		})
	}
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

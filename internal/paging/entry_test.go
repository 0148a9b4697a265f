package paging

import "testing"

func TestEntryFlags(t *testing.T) {
	e := Entry(0x8000_0000_0000_0000 | 0x1ff | 0x0000_1234_5678_9000)
	for name, ok := range map[string]bool{
		"present":      e.Present(),
		"writable":     e.Writable(),
		"user":         e.User(),
		"writeThrough": e.WriteThrough(),
		"cacheDisable": e.CacheDisable(),
		"accessed":     e.Accessed(),
		"dirty":        e.Dirty(),
		"pageSize":     e.PageSize(),
		"global":       e.Global(),
		"noExecute":    e.NoExecute(),
	} {
		if !ok {
			t.Fatalf("expected %s to be set", name)
		}
	}
	if got := e.FlagString(); got != "P | W | U | PWT | PCD | A | D | PS | G | NX" {
		t.Fatalf("FlagString = %q", got)
	}
	if e.Frame() != 0x0000_1234_5678_9000 {
		t.Fatalf("Frame = %s", e.Frame())
	}
	if e.TableBase() != 0x8000_1234_5678_9000 {
		t.Fatalf("TableBase = %s", e.TableBase())
	}
}

func TestEntryNoFlags(t *testing.T) {
	if got := Entry(0x5000).FlagString(); got != "None" {
		t.Fatalf("FlagString = %q", got)
	}
	if Entry(0x2).HasFlags(FlagPresent | FlagWritable) {
		t.Fatalf("HasFlags requires every flag")
	}
	if !Entry(0x2).HasAnyFlag(FlagPresent | FlagWritable) {
		t.Fatalf("HasAnyFlag requires one flag")
	}
}

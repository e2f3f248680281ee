package zkcache

import "testing"

func TestIsUseDefaultOnlyMatchesSentinel(t *testing.T) {
	if !isUseDefault(UseDefault) {
		t.Fatal("expected UseDefault to satisfy isUseDefault")
	}
	if isUseDefault("UseDefault") {
		t.Fatal("expected a string resembling the sentinel's name not to match")
	}
	if isUseDefault(struct{}{}) {
		t.Fatal("expected an unrelated empty struct not to match")
	}
}

func TestStaticSlotSentinelIsDistinctFromUseDefault(t *testing.T) {
	if isUseDefault(static) {
		t.Fatal("expected the directory static sentinel not to be mistaken for UseDefault")
	}
}

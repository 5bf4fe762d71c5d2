package genesis

import (
	"testing"

	"proxyvm/core"
	"proxyvm/core/contracts"
	"proxyvm/storage"
)

const demoGenesis = `
deployer: "0x000000000000000000000000000000000000000f"
contracts:
  - alias: counter-v1
    code: counter@1
  - alias: counter-unguarded
    code: counter@1
    lock: false
proxies:
  - alias: app
    implementation: counter-v1
    init:
      method: initialize
      args: ["0x000000000000000000000000000000000000000f", "0"]
`

func TestParseAndApply(t *testing.T) {
	f, err := Parse([]byte(demoGenesis))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Contracts) != 2 || len(f.Proxies) != 1 {
		t.Fatalf("unexpected shape: %d contracts, %d proxies", len(f.Contracts), len(f.Proxies))
	}

	w := core.NewWorld(storage.NewMemDB())
	if err := w.RegisterCode(contracts.NewCounterV1()); err != nil {
		t.Fatalf("register: %v", err)
	}
	bound, err := f.Apply(w)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	proxy, ok := bound["app"]
	if !ok {
		t.Fatal("proxy alias not bound")
	}
	info, err := w.Introspect(proxy)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if info.Implementation != bound["counter-v1"] {
		t.Fatalf("proxy points at %s, want %s", info.Implementation.Hex(), bound["counter-v1"].Hex())
	}
	if info.Epoch != 1 {
		t.Fatalf("init epoch = %d, want 1", info.Epoch)
	}
}

func TestParseRejectsDuplicateAlias(t *testing.T) {
	_, err := Parse([]byte(`
contracts:
  - alias: a
    code: counter@1
  - alias: a
    code: counter@2
`))
	if err == nil {
		t.Fatal("duplicate alias accepted")
	}
}

func TestApplyRejectsUnknownImplementationAlias(t *testing.T) {
	f, err := Parse([]byte(`
proxies:
  - alias: app
    implementation: missing
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	w := core.NewWorld(storage.NewMemDB())
	if _, err := f.Apply(w); err == nil {
		t.Fatal("unknown alias accepted")
	}
}

package genesis

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"proxyvm/core"
)

// File describes the instances a daemon deploys at startup: implementation
// contracts first, then proxies referencing them by alias.
type File struct {
	Deployer  string         `yaml:"deployer"`
	Contracts []ContractSpec `yaml:"contracts"`
	Proxies   []ProxySpec    `yaml:"proxies"`
}

// ContractSpec deploys one implementation instance. Lock defaults to true;
// an explicit false reproduces the unguarded-implementation defect and is
// only meant for demonstration worlds.
type ContractSpec struct {
	Alias string `yaml:"alias"`
	Code  string `yaml:"code"`
	Lock  *bool  `yaml:"lock"`
}

// ProxySpec deploys one proxy over a previously declared contract alias.
type ProxySpec struct {
	Alias          string    `yaml:"alias"`
	Implementation string    `yaml:"implementation"`
	Init           *CallSpec `yaml:"init"`
	SelfAuthorized bool      `yaml:"selfAuthorized"`
}

// CallSpec is a method plus word arguments in their external string form.
type CallSpec struct {
	Method string   `yaml:"method"`
	Args   []string `yaml:"args"`
}

// Load parses a genesis file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes genesis YAML and validates alias uniqueness.
func Parse(raw []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode genesis file: %w", err)
	}
	seen := map[string]struct{}{}
	for _, c := range f.Contracts {
		if strings.TrimSpace(c.Alias) == "" {
			return nil, fmt.Errorf("contract with code %q missing alias", c.Code)
		}
		if _, dup := seen[c.Alias]; dup {
			return nil, fmt.Errorf("duplicate alias %q", c.Alias)
		}
		seen[c.Alias] = struct{}{}
	}
	for _, p := range f.Proxies {
		if strings.TrimSpace(p.Alias) == "" {
			return nil, fmt.Errorf("proxy over %q missing alias", p.Implementation)
		}
		if _, dup := seen[p.Alias]; dup {
			return nil, fmt.Errorf("duplicate alias %q", p.Alias)
		}
		seen[p.Alias] = struct{}{}
	}
	return &f, nil
}

func (c *CallSpec) callData() (*core.CallData, error) {
	if c == nil {
		return nil, nil
	}
	args := make([]common.Hash, 0, len(c.Args))
	for _, raw := range c.Args {
		word, err := core.ParseWord(raw)
		if err != nil {
			return nil, err
		}
		args = append(args, word)
	}
	return &core.CallData{Method: c.Method, Args: args}, nil
}

// Apply deploys everything the file declares into the world and returns the
// alias-to-address binding. Deployment is fail-fast: the first error aborts
// with whatever was already deployed left in place, matching per-call
// atomicity rather than whole-file atomicity.
func (f *File) Apply(w *core.World) (map[string]common.Address, error) {
	deployer := common.HexToAddress(f.Deployer)
	bound := make(map[string]common.Address, len(f.Contracts)+len(f.Proxies))
	for _, c := range f.Contracts {
		lock := true
		if c.Lock != nil {
			lock = *c.Lock
		}
		addr, err := w.DeployContract(deployer, c.Code, lock)
		if err != nil {
			return bound, fmt.Errorf("deploy %q: %w", c.Alias, err)
		}
		bound[c.Alias] = addr
	}
	for _, p := range f.Proxies {
		impl, ok := bound[p.Implementation]
		if !ok {
			return bound, fmt.Errorf("proxy %q references unknown alias %q", p.Alias, p.Implementation)
		}
		init, err := p.Init.callData()
		if err != nil {
			return bound, fmt.Errorf("proxy %q init: %w", p.Alias, err)
		}
		var opts []core.ProxyOption
		if p.SelfAuthorized {
			opts = append(opts, core.WithSelfAuthorizedUpgrades())
		}
		addr, err := w.DeployProxy(deployer, impl, init, opts...)
		if err != nil {
			return bound, fmt.Errorf("deploy proxy %q: %w", p.Alias, err)
		}
		bound[p.Alias] = addr
	}
	return bound, nil
}

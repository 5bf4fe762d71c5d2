package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"proxyvm/rpc"
)

var rpcEndpoint = defaultRPCEndpoint()
var authSecret = os.Getenv("PROXYVM_AUTH_SECRET")

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("PROXYVM_RPC_URL")); url != "" {
		return url
	}
	return "http://127.0.0.1:8645"
}

func main() {
	args := os.Args[1:]
	args = applyGlobalFlags(args)

	if len(args) < 1 {
		printUsage()
		return
	}

	var err error
	switch command := args[0]; command {
	case "deploy":
		err = deploy(args[1:])
	case "call":
		err = call(args[1:])
	case "upgrade":
		err = upgrade(args[1:])
	case "introspect":
		err = singleAddressRequest("proxy_introspect", args[1:])
	case "history":
		err = singleAddressRequest("proxy_history", args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: proxyvm-cli [--rpc URL] <command> [args]

Commands:
  deploy <caller> <code> [initMethod arg...]        Deploy implementation + proxy
  call <caller> <proxy> <method> [arg...]           Call a method through the proxy
  upgrade <caller> <proxy> <code> [postMethod arg...]  Upgrade to a new code version
  introspect <proxy>                                Read the proxy's control slots
  history <proxy>                                   List recorded upgrade attempts

Privileged commands (deploy, upgrade) sign a bearer token with the secret from
PROXYVM_AUTH_SECRET, prompting for it when unset and the daemon demands auth.`)
}

func applyGlobalFlags(args []string) []string {
	out := args[:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "--rpc" && i+1 < len(args) {
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}

func deploy(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: deploy <caller> <code> [initMethod arg...]")
	}
	params := map[string]interface{}{"caller": args[0], "code": args[1]}
	if len(args) > 2 {
		params["init"] = map[string]interface{}{"method": args[2], "args": args[3:]}
	}
	return request("proxy_deploy", params, true)
}

func call(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: call <caller> <proxy> <method> [arg...]")
	}
	params := map[string]interface{}{
		"caller": args[0], "to": args[1], "method": args[2], "args": args[3:],
	}
	return request("proxy_call", params, false)
}

func upgrade(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: upgrade <caller> <proxy> <code> [postMethod arg...]")
	}
	params := map[string]interface{}{"caller": args[0], "proxy": args[1], "code": args[2]}
	if len(args) > 3 {
		params["post"] = map[string]interface{}{"method": args[3], "args": args[4:]}
	}
	return request("proxy_upgrade", params, true)
}

func singleAddressRequest(method string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <proxy>", strings.TrimPrefix(method, "proxy_"))
	}
	return request(method, map[string]interface{}{"proxy": args[0]}, false)
}

func request(method string, params interface{}, privileged bool) error {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if privileged {
		token, err := mintToken()
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var decoded struct {
		Result interface{} `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	pretty, err := json.MarshalIndent(decoded.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

// mintToken signs a short-lived bearer token with the shared secret,
// prompting on the terminal when the environment does not provide one. An
// empty response skips authentication for daemons that run open.
func mintToken() (string, error) {
	secret := strings.TrimSpace(authSecret)
	if secret == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Auth secret (empty for none): ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		secret = strings.TrimSpace(string(raw))
	}
	if secret == "" {
		return "", nil
	}
	return rpc.MintToken(secret, "proxyvm-cli", 5*time.Minute)
}

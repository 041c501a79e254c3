package banner

import "fmt"

const banner = `
███████╗███╗   ███╗██████╗ ███████╗██████╗ ██╗     ██╗███╗   ██╗███████╗
██╔════╝████╗ ████║██╔══██╗██╔════╝██╔══██╗██║     ██║████╗  ██║██╔════╝
█████╗  ██╔████╔██║██████╔╝█████╗  ██████╔╝██║     ██║██╔██╗ ██║█████╗
██╔══╝  ██║╚██╔╝██║██╔══██╗██╔══╝  ██╔══██╗██║     ██║██║╚██╗██║██╔══╝
███████╗██║ ╚═╝ ██║██████╔╝███████╗██║  ██║███████╗██║██║ ╚████║███████╗
╚══════╝╚═╝     ╚═╝╚═════╝ ╚══════╝╚═╝  ╚═╝╚══════╝╚═╝╚═╝  ╚═══╝╚══════╝
`

// Print writes the startup banner with the effective runtime settings.
func Print(addr, dbPath, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/auth/login            - Exchange credentials for a token")
	fmt.Println("POST /v1/chats                 - Create or fetch a 1:1 chat")
	fmt.Println("POST /v1/messages              - Send a message (expires after 24h)")
	fmt.Println("GET  /v1/chats/{id}/messages   - Viewer-specific visible messages")
	fmt.Println("GET  /v1/ws?token=<token>      - Realtime connection")
}

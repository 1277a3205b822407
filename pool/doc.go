// Package pool implements core.ToolServerPool backends: an in-process
// StaticPool for tests and demos, and MCPPool supervising external MCP
// servers over stdio.
package pool

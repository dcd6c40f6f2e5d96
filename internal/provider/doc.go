// Package provider is the client for the remote agent-hosting platform.
//
// The Client interface covers agent creation, deployment status, access key
// minting, knowledge base provisioning, and chat completion. HTTPClient talks
// to the real platform; Mock scripts responses for tests.
//
// Two platform quirks shape the interface. Deployment is asynchronous: a
// created agent reports STATUS_* phases and only gains a usable endpoint once
// running, so callers must poll GetAgent. And credentials embedded in agent
// payloads are unreliable: only keys returned by the dedicated MintAccessKey
// call are valid for the chat endpoint.
package provider

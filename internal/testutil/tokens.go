// Package testutil provides testing utilities for the conductor project.
package testutil

// Safe test credentials that won't trigger secret scanning.
const (
	// FakeGitHubToken is a safe test token for GitHub API authentication.
	FakeGitHubToken = "test-github-token"

	// FakeSSHKey stands in for a private key where the key is never parsed.
	FakeSSHKey = "test-ssh-private-key"
)

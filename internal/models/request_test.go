package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateCheckRequest_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := &UpdateCheckRequest{CurrentVersion: "1.0.0", Channel: "stable"}
		assert.NoError(t, req.Validate())
	})

	t.Run("empty channel is allowed", func(t *testing.T) {
		req := &UpdateCheckRequest{CurrentVersion: "1.0.0"}
		assert.NoError(t, req.Validate())
	})

	t.Run("missing current version", func(t *testing.T) {
		req := &UpdateCheckRequest{Channel: "stable"}
		err := req.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "current_version is required")
	})

	t.Run("unknown channel", func(t *testing.T) {
		req := &UpdateCheckRequest{CurrentVersion: "1.0.0", Channel: "prod"}
		err := req.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid channel")
	})
}

func TestUpdateCheckRequest_Normalize(t *testing.T) {
	req := &UpdateCheckRequest{CurrentVersion: "  1.0.0 ", Channel: " Beta "}
	req.Normalize()
	assert.Equal(t, "1.0.0", req.CurrentVersion)
	assert.Equal(t, "beta", req.Channel)

	// Empty channel defaults to stable.
	req = &UpdateCheckRequest{CurrentVersion: "1.0.0"}
	req.Normalize()
	assert.Equal(t, ChannelStable, req.Channel)
}

func TestSystemInfo_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		info := &SystemInfo{ClientVersion: "1.0.0", OS: "linux", MemoryMB: 4096, DiskMB: 10240}
		assert.NoError(t, info.Validate())
	})

	t.Run("unknown environment fields are allowed", func(t *testing.T) {
		info := &SystemInfo{ClientVersion: "1.0.0"}
		assert.NoError(t, info.Validate())
	})

	t.Run("missing client version", func(t *testing.T) {
		info := &SystemInfo{OS: "linux"}
		assert.Error(t, info.Validate())
	})

	t.Run("negative memory", func(t *testing.T) {
		info := &SystemInfo{ClientVersion: "1.0.0", MemoryMB: -1}
		assert.Error(t, info.Validate())
	})

	t.Run("negative disk", func(t *testing.T) {
		info := &SystemInfo{ClientVersion: "1.0.0", DiskMB: -1}
		assert.Error(t, info.Validate())
	})
}

func TestPublishRequest_Validate(t *testing.T) {
	valid := func() *PublishRequest {
		return &PublishRequest{
			Version:  "2.0.0",
			Channel:  "stable",
			FileName: "app-2.0.0.zip",
			Checksum: "abc123",
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing version", func(t *testing.T) {
		req := valid()
		req.Version = ""
		assert.Error(t, req.Validate())
	})

	t.Run("missing channel", func(t *testing.T) {
		req := valid()
		req.Channel = ""
		assert.Error(t, req.Validate())
	})

	t.Run("unknown channel", func(t *testing.T) {
		req := valid()
		req.Channel = "canary"
		assert.Error(t, req.Validate())
	})

	t.Run("missing file name", func(t *testing.T) {
		req := valid()
		req.FileName = ""
		assert.Error(t, req.Validate())
	})

	t.Run("missing checksum", func(t *testing.T) {
		req := valid()
		req.Checksum = ""
		assert.Error(t, req.Validate())
	})

	t.Run("invalid minimum version", func(t *testing.T) {
		req := valid()
		req.MinimumVersion = "oldest"
		err := req.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid minimum_version")
	})
}

func TestPublishRequest_Normalize(t *testing.T) {
	req := &PublishRequest{
		Version:  " 2.0.0 ",
		Channel:  "STABLE",
		FileName: " app.zip ",
		Checksum: "ABC123",
	}
	req.Normalize()

	assert.Equal(t, "2.0.0", req.Version)
	assert.Equal(t, "stable", req.Channel)
	assert.Equal(t, "app.zip", req.FileName)
	assert.Equal(t, "abc123", req.Checksum)
}

func TestListReleasesRequest(t *testing.T) {
	t.Run("validate rejects bad inputs", func(t *testing.T) {
		assert.Error(t, (&ListReleasesRequest{Channel: "prod"}).Validate())
		assert.Error(t, (&ListReleasesRequest{Limit: -1}).Validate())
		assert.Error(t, (&ListReleasesRequest{Offset: -5}).Validate())
		assert.NoError(t, (&ListReleasesRequest{Channel: "beta", Limit: 10}).Validate())
	})

	t.Run("normalize clamps page size", func(t *testing.T) {
		req := &ListReleasesRequest{Channel: " Beta "}
		req.Normalize()
		assert.Equal(t, "beta", req.Channel)
		assert.Equal(t, 50, req.Limit)

		req = &ListReleasesRequest{Limit: 500}
		req.Normalize()
		assert.Equal(t, 50, req.Limit)

		req = &ListReleasesRequest{Limit: 25}
		req.Normalize()
		assert.Equal(t, 25, req.Limit)
	})
}

// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"context"
	"encoding/json"

	"github.com/yeetrun/trow/pkg/backendrpc"
)

// GetCatalog lists up to limit repositories after startAfter. A zero limit
// lists everything. The result is complete or the call fails; partial
// listings are never returned.
func (c *Client) GetCatalog(ctx context.Context, limit uint32, startAfter string) (*RepoCatalog, error) {
	limit = streamLimit(limit)
	c.log.Info("get catalog", "limit", limit, "last_repo", startAfter)

	catalog := new(RepoCatalog)
	err := c.rpc.Stream(ctx, backendrpc.MethodGetCatalog, backendrpc.CatalogRequest{
		Limit:    limit,
		LastRepo: startAfter,
	}, func(raw json.RawMessage) error {
		var e backendrpc.CatalogEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		catalog.Insert(e.RepoName)
		return nil
	})
	if err != nil {
		c.log.Warn("error getting catalog", "err", err)
		return nil, newError(KindInternal, "get catalog", "", err)
	}
	return catalog, nil
}

// GetTags lists up to limit tags of repo after startAfter, in the order the
// backend returns them.
func (c *Client) GetTags(ctx context.Context, repo RepoName, limit uint32, startAfter string) (*TagList, error) {
	limit = streamLimit(limit)
	c.log.Info("list tags", "repo", repo, "limit", limit, "last_tag", startAfter)

	list := &TagList{Name: string(repo), Tags: []string{}}
	err := c.rpc.Stream(ctx, backendrpc.MethodListTags, backendrpc.ListTagsRequest{
		RepoName: string(repo),
		Limit:    limit,
		LastTag:  startAfter,
	}, func(raw json.RawMessage) error {
		var t backendrpc.Tag
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		list.Insert(t.Tag)
		return nil
	})
	if err != nil {
		c.log.Warn("error listing tags", "repo", repo, "err", err)
		return nil, newError(KindInternal, "list tags", string(repo), err)
	}
	return list, nil
}

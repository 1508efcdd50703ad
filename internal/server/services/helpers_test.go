package services

import (
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/dmitrijs2005/mediaarchive/internal/server/rewrite"
)

func newPrefixRewriter(base string) rewrite.URIRewriter {
	return rewrite.NewBaseURLRewriter(base)
}

func rewriterFunc(fn func(p models.StoragePath) (string, error)) rewrite.URIRewriter {
	return rewrite.RewriterFunc(func(p models.StoragePath, _ models.Element) (string, error) {
		return fn(p)
	})
}

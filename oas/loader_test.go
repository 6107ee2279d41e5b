package oas

import (
	"context"
	"strings"
	"testing"

	"github.com/apiprobe/apiprobe/ir"
	"github.com/apiprobe/apiprobe/model"
)

const itemsDoc = `
openapi: 3.0.3
info:
  title: Items API
  version: "1.0"
paths:
  /items:
    post:
      operationId: createItem
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/NewItem'
      responses:
        '201':
          description: created
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Item'
          links:
            GetItemById:
              operationId: getItem
              parameters:
                id: '$response.body#/id'
  /items/{id}:
    parameters:
      - name: id
        in: path
        required: true
        schema:
          type: integer
          minimum: 1
    get:
      operationId: getItem
      responses:
        '200':
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Item'
        '404':
          description: missing
  /broken:
    get:
      operationId: brokenOp
      responses:
        '200':
          description: impossible
          content:
            application/json:
              schema:
                type: integer
                minimum: 10
                maximum: 5
components:
  schemas:
    NewItem:
      type: object
      required: [name]
      properties:
        name:
          type: string
          minLength: 1
    Item:
      type: object
      required: [id, name]
      properties:
        id:
          type: integer
        name:
          type: string
        parent:
          $ref: '#/components/schemas/Item'
`

func loadFixture(t *testing.T, doc string) *Document {
	t.Helper()
	out, err := Load(context.Background(), strings.NewReader(doc), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return out
}

func TestLoadOperations(t *testing.T) {
	doc := loadFixture(t, itemsDoc)
	if doc.Title != "Items API" || doc.Version != "1.0" {
		t.Errorf("info not read: %q %q", doc.Title, doc.Version)
	}

	create := doc.Graph.Operation("createItem")
	if create == nil {
		t.Fatalf("createItem not loaded")
	}
	if create.Body == nil || create.Body.Node == nil {
		t.Fatalf("request body not resolved")
	}
	if !create.Body.Required || create.Body.ContentType != "application/json" {
		t.Errorf("body spec wrong: %+v", create.Body)
	}
	if create.Body.Node.Kind != ir.KindObject {
		t.Errorf("body schema kind = %s", create.Body.Node.Kind)
	}

	get := doc.Graph.Operation("getItem")
	if get == nil {
		t.Fatalf("getItem not loaded")
	}
	id := get.Parameter(model.LocationPath, "id")
	if id == nil {
		t.Fatalf("path-level parameter not inherited")
	}
	if !id.Required || id.Node.Kind != ir.KindInteger {
		t.Errorf("id parameter wrong: %+v", id)
	}
	if !get.DeclaresStatus(404) || get.DeclaresStatus(500) {
		t.Errorf("response declarations wrong: %+v", get.Responses)
	}
	if r := get.ResponseFor(200); r == nil || r.Node == nil || r.Node.Raw == nil {
		t.Errorf("200 response schema not resolved")
	}
}

func TestLoadResponseHeaders(t *testing.T) {
	doc := loadFixture(t, `
openapi: 3.0.3
info:
  title: headers
  version: "1.0"
paths:
  /things:
    get:
      operationId: listThings
      responses:
        '200':
          description: ok
          headers:
            X-Rate-Limit:
              required: true
              schema:
                type: integer
            X-Request-Id:
              schema:
                type: string
            Content-Type:
              schema:
                type: string
          content:
            application/json:
              schema:
                type: array
                items:
                  type: string
`)
	op := doc.Graph.Operation("listThings")
	if op == nil {
		t.Fatalf("listThings not loaded")
	}
	resp := op.ResponseFor(200)
	if resp == nil {
		t.Fatalf("200 response not loaded")
	}
	limit, ok := resp.Headers["X-Rate-Limit"]
	if !ok {
		t.Fatalf("X-Rate-Limit not loaded: %v", resp.Headers)
	}
	if !limit.Required || limit.Node == nil || limit.Node.Kind != ir.KindInteger {
		t.Errorf("X-Rate-Limit spec wrong: %+v", limit)
	}
	reqID, ok := resp.Headers["X-Request-Id"]
	if !ok || reqID.Required {
		t.Errorf("X-Request-Id must load as optional: %+v", resp.Headers)
	}
	// Declaring Content-Type as a header has no effect.
	if _, ok := resp.Headers["Content-Type"]; ok {
		t.Errorf("Content-Type header declaration must be ignored")
	}
}

func TestLoadResolvesLinks(t *testing.T) {
	doc := loadFixture(t, itemsDoc)
	create := doc.Graph.Operation("createItem")

	links := doc.Graph.LinksFrom(create, 201)
	if len(links) != 1 {
		t.Fatalf("expected the declared link, got %v", links)
	}
	l := links[0]
	if l.Name != "GetItemById" || l.Target.ID != "getItem" {
		t.Errorf("link wrong: %+v", l)
	}
	if len(l.Parameters) != 1 {
		t.Fatalf("link parameters wrong: %+v", l.Parameters)
	}
	p := l.Parameters[0]
	if p.Location != model.LocationPath || p.Name != "id" || p.Expr != "$response.body#/id" {
		t.Errorf("link parameter wrong: %+v", p)
	}
	if ls := doc.Graph.LinksFrom(create, 404); len(ls) != 0 {
		t.Errorf("link must be scoped to its response status: %v", ls)
	}
}

func TestLoadSkipsBrokenOperationOnly(t *testing.T) {
	doc := loadFixture(t, itemsDoc)
	if doc.Graph.Operation("brokenOp") != nil {
		t.Errorf("unsatisfiable operation must be skipped")
	}
	if len(doc.Graph.Operations()) != 2 {
		t.Errorf("healthy operations must survive, got %d", len(doc.Graph.Operations()))
	}
	var found bool
	for _, d := range doc.Diagnostics {
		if strings.Contains(d.Scope, "/broken") {
			found = true
		}
	}
	if !found {
		t.Errorf("skip must leave a diagnostic, got %v", doc.Diagnostics)
	}
}

func TestLoadTerminatesOnRecursiveSchema(t *testing.T) {
	doc := loadFixture(t, itemsDoc)
	get := doc.Graph.Operation("getItem")
	node := get.ResponseFor(200).Node

	var parent *ir.Node
	for _, p := range node.Properties {
		if p.Name == "parent" {
			parent = p.Node
		}
	}
	if parent == nil {
		t.Fatalf("recursive property dropped")
	}
	// Termination: somewhere down the chain a cutoff placeholder appears.
	depth := 0
	for cur := parent; cur != nil && depth < 50; depth++ {
		if cur.Kind == ir.KindRecursiveCutoff {
			return
		}
		next := (*ir.Node)(nil)
		for _, p := range cur.Properties {
			if p.Name == "parent" {
				next = p.Node
			}
		}
		cur = next
	}
	t.Fatalf("recursive schema did not terminate in a cutoff placeholder")
}

func TestLoadRejectsDanglingLinkTarget(t *testing.T) {
	doc := loadFixture(t, strings.Replace(itemsDoc, "operationId: getItem\n              parameters",
		"operationId: noSuchOp\n              parameters", 1))
	create := doc.Graph.Operation("createItem")
	if ls := doc.Graph.LinksFrom(create, 201); len(ls) != 0 {
		t.Errorf("link to unknown operation must be dropped, got %v", ls)
	}
	var found bool
	for _, d := range doc.Diagnostics {
		if strings.Contains(d.Scope, "GetItemById") {
			found = true
		}
	}
	if !found {
		t.Errorf("dropped link must leave a diagnostic, got %v", doc.Diagnostics)
	}
}

func TestLoadRejectsEmptyDocument(t *testing.T) {
	if _, err := Load(context.Background(), strings.NewReader("openapi: 3.0.3\ninfo:\n  title: x\n  version: '1'\npaths: {}\n"), Options{}); err == nil {
		t.Fatalf("document without operations must be rejected")
	}
}

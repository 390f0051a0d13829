package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/codec"
	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/collection"
	"github.com/xenking/storefront/internal/domain/product"
)

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range products {
			h.encodeProduct(e, &products[i])
		}
		e.ArrEnd()
	})
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeProduct(w, http.StatusOK, p)
}

// CreateProduct adds a product with its initial stock.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	d, err := readDraft(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.Create(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeProduct(w, http.StatusCreated, p)
}

// UpdateProduct replaces the editable fields of a product. A stock value in
// the body is ignored.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	d, err := readDraft(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.Update(r.Context(), chi.URLParam(r, "productID"), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeProduct(w, http.StatusOK, p)
}

// AdjustStock applies {"delta": n} through the inventory ledger.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var (
		delta int
		seen  bool
	)
	err := readJSON(r, func(d *jx.Decoder, key string) error {
		if key != "delta" {
			return d.Skip()
		}
		seen = true
		var err error
		delta, err = d.Int()
		return err
	})
	if err == nil && !seen {
		err = apperr.Validation("delta is required")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.ledger.ApplyDelta(r.Context(), chi.URLParam(r, "productID"), delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeProduct(w, http.StatusOK, p)
}

func readDraft(r *http.Request) (product.Draft, error) {
	var d product.Draft
	err := readJSON(r, func(dec *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			d.Name, err = dec.Str()
		case "description":
			d.Description, err = dec.Str()
		case "brand":
			d.Brand, err = dec.Str()
		case "collection_id":
			if dec.Next() == jx.Null {
				return dec.Null()
			}
			d.CollectionID, err = dec.Str()
		case "price":
			d.Price, err = codec.DecodeMoney(dec)
		case "stock":
			d.Stock, err = dec.Int()
		case "photos":
			err = dec.Arr(func(dec *jx.Decoder) error {
				s, err := dec.Str()
				d.Photos = append(d.Photos, s)
				return err
			})
		default:
			err = dec.Skip()
		}
		return err
	})
	return d, err
}

func (h *Handler) writeProduct(w http.ResponseWriter, status int, p *product.Product) {
	writeJSON(w, status, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("brand")
	e.Str(p.Brand)
	if p.CollectionID != "" {
		e.FieldStart("collection_id")
		e.Str(p.CollectionID)
	}
	e.FieldStart("price")
	codec.Money(e, p.Price)
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("sold")
	e.Int(p.Sold)
	e.FieldStart("photos")
	e.ArrStart()
	for _, ph := range p.Photos {
		e.Str(h.resolveImage(ph))
	}
	e.ArrEnd()
	e.FieldStart("created_at")
	codec.Time(e, p.CreatedAt)
	e.FieldStart("updated_at")
	codec.Time(e, p.UpdatedAt)
	e.ObjEnd()
}

// resolveImage prepends imageBaseURL to relative photo paths.
func (h *Handler) resolveImage(path string) string {
	if h.imageBaseURL == "" || path == "" {
		return path
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// ListCollections returns every collection.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	cs, err := h.collections.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range cs {
			encodeCollection(e, &cs[i])
		}
		e.ArrEnd()
	})
}

// CreateCollection adds a collection.
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	name, err := readName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.collections.Create(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCollection(e, c) })
}

// RenameCollection changes a collection name.
func (h *Handler) RenameCollection(w http.ResponseWriter, r *http.Request) {
	name, err := readName(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.collections.Rename(r.Context(), chi.URLParam(r, "collectionID"), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCollection(e, c) })
}

// DeleteCollection removes a collection; its products become ungrouped.
func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.collections.Delete(r.Context(), chi.URLParam(r, "collectionID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readName(r *http.Request) (string, error) {
	var name string
	err := readJSON(r, func(d *jx.Decoder, key string) error {
		if key != "name" {
			return d.Skip()
		}
		var err error
		name, err = d.Str()
		return err
	})
	return name, err
}

func encodeCollection(e *jx.Encoder, c *collection.Collection) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("name")
	e.Str(c.Name)
	e.FieldStart("created_at")
	codec.Time(e, c.CreatedAt)
	e.FieldStart("updated_at")
	codec.Time(e, c.UpdatedAt)
	e.ObjEnd()
}

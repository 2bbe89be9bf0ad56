package server

import (
	"github.com/rs/zerolog/log"

	"github.com/danmuck/ratewire/internal/protocol"
	"github.com/danmuck/ratewire/internal/store"
)

// handle dispatches one request to its handler and always produces exactly
// one response. Unrecognized actions get an explicit failure reply instead of
// silence so the one-reply-per-request contract holds for every input.
func (s *Server) handle(msg map[string]any) map[string]any {
	action := protocol.Action(msg)
	switch action {
	case protocol.ActionAddFilter:
		return s.handleAddFilter(msg)
	case protocol.ActionAddProduct:
		return s.handleAddProduct(msg)
	case protocol.ActionAddRating:
		return s.handleAddRating(msg)
	case protocol.ActionGetFiltersAndProducts:
		return s.handleGetFiltersAndProducts(msg)
	case protocol.ActionGetRatings:
		return s.handleGetRatings(msg)
	default:
		log.Warn().Str("action", action).Msg("unknown action")
		return protocol.NewResponse(action, protocol.StatusError, nil)
	}
}

func (s *Server) handleAddFilter(msg map[string]any) map[string]any {
	content := protocol.Content(msg)
	name, _ := protocol.String(content, protocol.KeyFilter)
	if name == "" {
		return protocol.NewResponse(protocol.ActionAddFilter, protocol.StatusError, nil)
	}
	min := protocol.OptionalNumber(content, protocol.KeyMin)
	max := protocol.OptionalNumber(content, protocol.KeyMax)
	f, err := s.st.AddFilter(name, min, max)
	if err != nil {
		log.Debug().Str("filter", name).Err(err).Msg("add_filter rejected")
		return protocol.NewResponse(protocol.ActionAddFilter, protocol.StatusError, nil)
	}
	return protocol.NewResponse(protocol.ActionAddFilter, protocol.StatusOK, f.Wire())
}

func (s *Server) handleAddProduct(msg map[string]any) map[string]any {
	content := protocol.Content(msg)
	name, _ := protocol.String(content, protocol.KeyProduct)
	if name == "" {
		return protocol.NewResponse(protocol.ActionAddProduct, protocol.StatusError, nil)
	}
	p, err := s.st.AddProduct(name)
	if err != nil {
		log.Debug().Str("product", name).Err(err).Msg("add_product rejected")
		return protocol.NewResponse(protocol.ActionAddProduct, protocol.StatusError, nil)
	}
	return protocol.NewResponse(protocol.ActionAddProduct, protocol.StatusOK, p.Wire())
}

func (s *Server) handleAddRating(msg map[string]any) map[string]any {
	content := protocol.Content(msg)
	productName, _ := protocol.String(content, protocol.KeyProduct)
	filterName, _ := protocol.String(content, protocol.KeyFilter)
	address, _ := protocol.String(content, protocol.KeyAddress)
	value, haveValue := protocol.Number(content, protocol.KeyRating)
	date, _ := protocol.String(content, protocol.KeyDate)
	// The wire carries a client date for display only; the stored timestamp
	// is assigned by the store.
	if productName == "" || filterName == "" || address == "" || !haveValue || date == "" {
		return protocol.NewResponse(protocol.ActionAddRating, protocol.StatusError, nil)
	}
	ratings, err := s.st.AddRating(productName, filterName, value, address)
	if err != nil {
		log.Debug().Str("product", productName).Str("filter", filterName).Err(err).Msg("add_rating rejected")
		return protocol.NewResponse(protocol.ActionAddRating, protocol.StatusError, nil)
	}
	return protocol.NewResponse(protocol.ActionAddRating, protocol.StatusOK, store.WireRatings(ratings))
}

func (s *Server) handleGetFiltersAndProducts(msg map[string]any) map[string]any {
	filters, err := s.st.Filters()
	if err != nil {
		log.Error().Err(err).Msg("list filters")
		return protocol.NewResponse(protocol.ActionGetFiltersAndProducts, protocol.StatusError, nil)
	}
	products, err := s.st.Products()
	if err != nil {
		log.Error().Err(err).Msg("list products")
		return protocol.NewResponse(protocol.ActionGetFiltersAndProducts, protocol.StatusError, nil)
	}
	content := map[string]any{
		protocol.KeyFilter:  store.WireFilters(filters),
		protocol.KeyProduct: store.WireProducts(products),
	}
	return protocol.NewResponse(protocol.ActionGetFiltersAndProducts, protocol.StatusOK, content)
}

func (s *Server) handleGetRatings(msg map[string]any) map[string]any {
	content := protocol.Content(msg)
	productName, _ := protocol.String(content, protocol.KeyProduct)
	filterName, _ := protocol.String(content, protocol.KeyFilter)
	ratings, err := s.st.RatingsFor(productName, filterName)
	if err != nil {
		log.Error().Err(err).Msg("list ratings")
		return protocol.NewResponse(protocol.ActionGetRatings, protocol.StatusError, nil)
	}
	if len(ratings) == 0 {
		return protocol.NewResponse(protocol.ActionGetRatings, protocol.StatusError, nil)
	}
	return protocol.NewResponse(protocol.ActionGetRatings, protocol.StatusOK, store.WireRatings(ratings))
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/models"
)

// Request/Response DTOs
type loginRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,max=72"`
}

type registerBidderRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"required,min=5,max=32"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Verified bool   `json:"verified"`
}

type registerBidderResponse struct {
	Bidder *models.Bidder `json:"bidder"`
	Token  string         `json:"token"`
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Size   string          `json:"size" validate:"max=20"`
}

type auctionRequest struct {
	Title               string              `json:"title" validate:"required,max=200"`
	ProductRef          string              `json:"product_ref" validate:"max=100"`
	MinIncrement        decimal.Decimal     `json:"min_increment" validate:"gt=0"`
	BasePrice           decimal.NullDecimal `json:"base_price" validate:"omitempty,gt=0"`
	RegistrationEndTime time.Time           `json:"registration_end_time" validate:"required"`
	BiddingStartTime    time.Time           `json:"bidding_start_time" validate:"required,gtfield=RegistrationEndTime"`
	BiddingEndTime      time.Time           `json:"bidding_end_time" validate:"required,gtfield=BiddingStartTime"`
	AvailableSizes      []string            `json:"available_sizes" validate:"dive,required,max=20"`
}

func (r *auctionRequest) input() auction.AuctionInput {
	return auction.AuctionInput{
		Title:               r.Title,
		ProductRef:          r.ProductRef,
		MinIncrement:        r.MinIncrement,
		BasePrice:           r.BasePrice,
		RegistrationEndTime: r.RegistrationEndTime,
		BiddingStartTime:    r.BiddingStartTime,
		BiddingEndTime:      r.BiddingEndTime,
		AvailableSizes:      r.AvailableSizes,
	}
}

type closeResponse struct {
	AuctionID string         `json:"auction_id"`
	Winner    *models.Winner `json:"winner"`
}

// newValidator reports field errors by their JSON names and compares
// decimals by value.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		switch d := field.Interface().(type) {
		case decimal.Decimal:
			return d.InexactFloat64()
		case decimal.NullDecimal:
			if !d.Valid {
				return nil
			}
			return d.Decimal.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{}, decimal.NullDecimal{})
	return v
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: describeValidation(err)})
		return false
	}
	return true
}

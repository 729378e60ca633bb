package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Keoroanthony/go-checkout/internal/errs"
	"github.com/Keoroanthony/go-checkout/internal/models"
)

const maxIdempotencyKeyLen = 128

type Item struct {
	ProductID uint `json:"product_id" validate:"required"`
	Quantity  int  `json:"quantity" validate:"required,gt=0,lte=10000"`
}

// Request is everything a checkout needs. CustomerID, SessionID and
// IdempotencyKey come from the caller's resolved identity and headers, never
// from the body. Items is optional: without it the caller's cart is used.
type Request struct {
	CustomerID     *uint  `json:"-"`
	SessionID      string `json:"-"`
	IdempotencyKey string `json:"-"`

	ContactEmail    string               `json:"contact_email" validate:"required,email,max=254"`
	ContactPhone    string               `json:"contact_phone,omitempty" validate:"omitempty,phone"`
	PaymentMethod   models.PaymentMethod `json:"payment_method" validate:"required,oneof=card paypal bank_transfer cash_on_delivery"`
	BillingAddress  models.Address       `json:"billing_address"`
	ShippingAddress models.Address       `json:"shipping_address"`
	Items           []Item               `json:"items,omitempty" validate:"omitempty,max=100,dive"`
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{5,18}[0-9]$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// validateRequest returns the first offending field as an errs.ValidationError.
func validateRequest(v *validator.Validate, req *Request) error {
	req.ContactEmail = strings.TrimSpace(req.ContactEmail)
	req.ContactPhone = strings.TrimSpace(req.ContactPhone)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	trimAddress(&req.BillingAddress)
	trimAddress(&req.ShippingAddress)

	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return &errs.ValidationError{Field: "idempotency_key", Reason: fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLen)}
	}

	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &errs.ValidationError{Field: "request", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &errs.ValidationError{Field: fieldPath(fe.Namespace()), Reason: reason(fe)}
}

func trimAddress(a *models.Address) {
	for _, f := range []*string{&a.FullName, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country} {
		*f = strings.TrimSpace(*f)
	}
}

// keyOwner names whose idempotency key this is: the customer, else the guest
// session, else the contact email.
func keyOwner(req Request) string {
	switch {
	case req.CustomerID != nil:
		return "customer:" + strconv.FormatUint(uint64(*req.CustomerID), 10)
	case req.SessionID != "":
		return "session:" + req.SessionID
	}
	return "email:" + strings.ToLower(req.ContactEmail)
}

// fingerprint hashes everything in the request that shapes the order. Items
// are merged and sorted first so equivalent item lists hash alike.
func fingerprint(req Request) string {
	qty := make(map[uint]int, len(req.Items))
	for _, it := range req.Items {
		qty[it.ProductID] += it.Quantity
	}
	items := make([]Item, 0, len(qty))
	for id, q := range qty {
		items = append(items, Item{ProductID: id, Quantity: q})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	payload, _ := json.Marshal(struct {
		Email    string               `json:"email"`
		Phone    string               `json:"phone"`
		Method   models.PaymentMethod `json:"method"`
		Billing  models.Address       `json:"billing"`
		Shipping models.Address       `json:"shipping"`
		Items    []Item               `json:"items"`
	}{
		Email:    strings.ToLower(req.ContactEmail),
		Phone:    req.ContactPhone,
		Method:   req.PaymentMethod,
		Billing:  req.BillingAddress,
		Shipping: req.ShippingAddress,
		Items:    items,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// fieldPath drops the root struct name: "Request.billing_address.city" -> "billing_address.city".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

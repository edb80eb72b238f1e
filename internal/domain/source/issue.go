package source

import "fmt"

// IssueCode is a stable machine code identifying a validation issue.
type IssueCode string

// Validation issue codes. These are collected, user-displayable conditions,
// as opposed to the structural errors in errors.go which indicate a broken
// collaborator contract.
const (
	CodeInvalidQuantity           IssueCode = "invalid_quantity"
	CodeInvalidPrice              IssueCode = "invalid_price"
	CodeInvalidDiscount           IssueCode = "invalid_discount"
	CodeNoProduct                 IssueCode = "no_product"
	CodeNoSupplier                IssueCode = "no_supplier"
	CodeProductNotAvailableInShop IssueCode = "product_not_available_in_shop"
	CodeProductNotOrderable       IssueCode = "product_not_orderable"
	CodeInvalidCustomer           IssueCode = "invalid_customer"
	CodeInvalidCustomerShop       IssueCode = "invalid_customer_shop"
	CodeOrdererNotCompanyMember   IssueCode = "orderer_not_company_member"
	CodeNoCommonShipping          IssueCode = "no_common_shipping"
	CodeNoCommonPayment           IssueCode = "no_common_payment"
	CodeOrderTotalTooLow          IssueCode = "order_total_too_low"
)

// Issue is a single user-displayable validation problem with a stable
// machine code. Issues are collected by validators and only escalate to a
// returned error at an explicit verification boundary.
type Issue struct {
	Code      IssueCode
	Message   string
	ProductID string
}

// Error makes an Issue usable as the error returned from verification
// boundaries such as OrderSource.VerifyOrderability.
func (i Issue) Error() string {
	if i.ProductID != "" {
		return fmt.Sprintf("%s: %s (product %s)", i.Code, i.Message, i.ProductID)
	}
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// NewIssue builds an Issue with a formatted message.
func NewIssue(code IssueCode, format string, args ...any) Issue {
	return Issue{Code: code, Message: fmt.Sprintf(format, args...)}
}

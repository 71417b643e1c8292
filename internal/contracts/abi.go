package contracts

// Event fragments of the three contract families. Only events are listed;
// the watcher never sends transactions.

const adminABI = `[
  {"type":"event","name":"CommunityAdded","anonymous":false,"inputs":[
    {"name":"communityAddress","type":"address","indexed":true},
    {"name":"managerAddress","type":"address","indexed":true},
    {"name":"claimAmount","type":"uint256","indexed":false},
    {"name":"maxClaim","type":"uint256","indexed":false},
    {"name":"baseInterval","type":"uint256","indexed":false},
    {"name":"incrementInterval","type":"uint256","indexed":false}]},
  {"type":"event","name":"CommunityRemoved","anonymous":false,"inputs":[
    {"name":"communityAddress","type":"address","indexed":true}]},
  {"type":"event","name":"CommunityMigrated","anonymous":false,"inputs":[
    {"name":"managers","type":"address[]","indexed":false},
    {"name":"communityAddress","type":"address","indexed":true},
    {"name":"previousCommunityAddress","type":"address","indexed":true}]}
]`

const communityABI = `[
  {"type":"event","name":"BeneficiaryAdded","anonymous":false,"inputs":[
    {"name":"manager","type":"address","indexed":true},
    {"name":"beneficiary","type":"address","indexed":true}]},
  {"type":"event","name":"BeneficiaryRemoved","anonymous":false,"inputs":[
    {"name":"manager","type":"address","indexed":true},
    {"name":"beneficiary","type":"address","indexed":true}]},
  {"type":"event","name":"BeneficiaryLocked","anonymous":false,"inputs":[
    {"name":"manager","type":"address","indexed":true},
    {"name":"beneficiary","type":"address","indexed":true}]},
  {"type":"event","name":"BeneficiaryUnlocked","anonymous":false,"inputs":[
    {"name":"manager","type":"address","indexed":true},
    {"name":"beneficiary","type":"address","indexed":true}]},
  {"type":"event","name":"ManagerAdded","anonymous":false,"inputs":[
    {"name":"manager","type":"address","indexed":true},
    {"name":"account","type":"address","indexed":true}]},
  {"type":"event","name":"ManagerRemoved","anonymous":false,"inputs":[
    {"name":"manager","type":"address","indexed":true},
    {"name":"account","type":"address","indexed":true}]}
]`

const protocolABI = `[
  {"type":"event","name":"LoanAdded","anonymous":false,"inputs":[
    {"name":"userAddress","type":"address","indexed":true},
    {"name":"loanId","type":"uint256","indexed":false},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"period","type":"uint256","indexed":false},
    {"name":"dailyInterest","type":"uint256","indexed":false},
    {"name":"claimDeadline","type":"uint256","indexed":false}]},
  {"type":"event","name":"LoanClaimed","anonymous":false,"inputs":[
    {"name":"userAddress","type":"address","indexed":true},
    {"name":"loanId","type":"uint256","indexed":false}]},
  {"type":"event","name":"RepaymentAdded","anonymous":false,"inputs":[
    {"name":"userAddress","type":"address","indexed":true},
    {"name":"loanId","type":"uint256","indexed":false},
    {"name":"repaymentAmount","type":"uint256","indexed":false},
    {"name":"currentDebt","type":"uint256","indexed":false}]}
]`

// Event names.
const (
	EventCommunityAdded    = "CommunityAdded"
	EventCommunityRemoved  = "CommunityRemoved"
	EventCommunityMigrated = "CommunityMigrated"

	EventBeneficiaryAdded    = "BeneficiaryAdded"
	EventBeneficiaryRemoved  = "BeneficiaryRemoved"
	EventBeneficiaryLocked   = "BeneficiaryLocked"
	EventBeneficiaryUnlocked = "BeneficiaryUnlocked"
	EventManagerAdded        = "ManagerAdded"
	EventManagerRemoved      = "ManagerRemoved"

	EventLoanAdded      = "LoanAdded"
	EventLoanClaimed    = "LoanClaimed"
	EventRepaymentAdded = "RepaymentAdded"
)

package user

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/masomo-portal/core"
	appfs "github.com/trezcool/masomo-portal/fs"
)

var (
	allRolesTag  = "allroles"
	allRolesText = "invalid roles"

	usernameOrEmailTag  = "username_or_email"
	usernameOrEmailText = "one of username or email is required"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = "password is too common"

	commonPasswords   []string // sorted
	commonPasswordsMu sync.RWMutex
)

// InitValidators registers the user validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(userStructValidation, NewUser{}, UpdateUser{}, ResetUserPassword{})
	core.RegisterTranslations(validate, translator,
		core.Translation{Tag: allRolesTag, Text: allRolesText, Func: allRolesValidation},
		core.Translation{Tag: usernameOrEmailTag, Text: usernameOrEmailText},
		core.Translation{Tag: pwdMinLenTag, Text: pwdMinLenText},
		core.Translation{Tag: pwdNoSpaceTag, Text: pwdNoSpaceText},
		core.Translation{Tag: pwdNotAllNumTag, Text: pwdNotAllNumText},
		core.Translation{Tag: pwdComplexityTag, Text: pwdComplexityText},
		core.Translation{Tag: pwdAttrSimTag, Text: pwdAttrSimText},
		core.Translation{Tag: pwdNoCommonTag, Text: pwdNoCommonText},
	)
}

// LoadCommonPasswords loads the embedded list of passwords rejected by the password policy.
func LoadCommonPasswords(logger core.Logger) {
	file, err := appfs.FS.Open("assets/common-passwords.txt")
	if err != nil {
		logger.Error(fmt.Sprintf("user.LoadCommonPasswords: %v", err), err)
		return
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	pwds := make([]string, 0, 64)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pwd := strings.ToLower(strings.TrimSpace(scanner.Text())); pwd != "" {
			pwds = append(pwds, pwd)
		}
	}
	if err = scanner.Err(); err != nil {
		logger.Error(fmt.Sprintf("user.LoadCommonPasswords: %v", err), err)
		return
	}
	sort.Strings(pwds)

	commonPasswordsMu.Lock()
	commonPasswords = pwds
	commonPasswordsMu.Unlock()
}

func isCommonPassword(pwd string) bool {
	commonPasswordsMu.RLock()
	defer commonPasswordsMu.RUnlock()

	lpwd := strings.ToLower(pwd)
	idx := sort.SearchStrings(commonPasswords, lpwd)
	return idx < len(commonPasswords) && commonPasswords[idx] == lpwd
}

// Custom Validators

// allRolesValidation checks that provided user roles are all in AllRoles
func allRolesValidation(fl validator.FieldLevel) bool {
	roles, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, role := range roles {
		if _, known := rolePriorities[role]; !known {
			return false
		}
	}
	return true
}

// userStructValidation does struct level validation on NewUser, UpdateUser and ResetUserPassword structs.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		if usr.Username == "" && usr.Email == "" {
			sl.ReportError(usr.Username, "username", "Username", usernameOrEmailTag, "")
			sl.ReportError(usr.Email, "email", "Email", usernameOrEmailTag, "")
		}
		validatePassword(sl, usr.Password, usr.Name, usr.Username, usr.Email)
	case UpdateUser:
		if usr.Password != "" {
			validatePassword(sl, usr.Password, usr.Name, usr.Username, usr.Email)
		}
	case ResetUserPassword:
		if usr.Password != "" {
			validatePassword(sl, usr.Password)
		}
	}
}

type passwordRule struct {
	tag   string
	valid func(pwd string, attrs []string) bool
}

// passwordPolicy is checked in order, only the first broken rule is reported.
var passwordPolicy = []passwordRule{
	{pwdMinLenTag, func(pwd string, _ []string) bool { return utf8.RuneCountInString(pwd) >= pwdMinLen }},
	{pwdNoSpaceTag, func(pwd string, _ []string) bool { return strings.IndexFunc(pwd, unicode.IsSpace) < 0 }},
	{pwdNotAllNumTag, func(pwd string, _ []string) bool {
		return strings.IndexFunc(pwd, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0
	}},
	{pwdComplexityTag, func(pwd string, _ []string) bool {
		return strings.IndexFunc(pwd, unicode.IsUpper) >= 0 &&
			strings.IndexFunc(pwd, unicode.IsLower) >= 0 &&
			strings.IndexFunc(pwd, unicode.IsDigit) >= 0 &&
			specialRegex.MatchString(pwd)
	}},
	{pwdAttrSimTag, func(pwd string, attrs []string) bool {
		lpwd := strings.Split(strings.ToLower(pwd), "")
		for _, attr := range attrs {
			if attr == "" {
				continue
			}
			attrChars := strings.Split(strings.ToLower(attr), "")
			if difflib.NewMatcher(lpwd, attrChars).QuickRatio() >= pwdMaxSim {
				return false
			}
		}
		return true
	}},
	{pwdNoCommonTag, func(pwd string, _ []string) bool { return !isCommonPassword(pwd) }},
}

// validatePassword reports the first passwordPolicy rule pwd breaks.
// attrs are the user's name, username and email.
func validatePassword(sl validator.StructLevel, pwd string, attrs ...string) {
	for _, rule := range passwordPolicy {
		if !rule.valid(pwd, attrs) {
			sl.ReportError(pwd, "password", "Password", rule.tag, "")
			return
		}
	}
}
